// Package prompts holds the prompt templates sent to the analysis models.
// Every prompt demands strict JSON so responses can be decoded into
// domain.ProcessingResult without post-processing.
package prompts

// Categories is the closed classification label set. Models must pick one.
var Categories = []string{
	"action_required", "awaiting_reply", "fyi", "newsletter",
	"scheduling", "billing", "support", "spam",
}

// UrgencyLevels is the closed urgency label set.
var UrgencyLevels = []string{"low", "medium", "high", "critical"}

// ClassifySystemPrompt defines the role and output contract for email
// classification.
const ClassifySystemPrompt = `You are an email triage assistant. Classify the email into exactly one category
(action_required, awaiting_reply, fyi, newsletter, scheduling, billing, support, spam)
and one urgency level (low, medium, high, critical).

Respond with strict JSON only, no prose:
{"classification": "<category>", "urgency": "<level>", "confidence": <0.0-1.0>}`

// ClassifyBatchSystemPrompt is the coalesced variant: several emails are
// presented as numbered items and the model returns one result per item.
const ClassifyBatchSystemPrompt = `You are an email triage assistant. You will receive several emails as numbered items.
For each item, classify it into exactly one category
(action_required, awaiting_reply, fyi, newsletter, scheduling, billing, support, spam)
and one urgency level (low, medium, high, critical).

Respond with strict JSON only: an array with one object per item, in item order:
[{"item": 1, "classification": "<category>", "urgency": "<level>", "confidence": <0.0-1.0>}, ...]`

// SentimentBatchSystemPrompt is the coalesced variant of sentiment scoring:
// several emails are presented as numbered items and the model returns one
// score per item.
const SentimentBatchSystemPrompt = `You are an email sentiment analyst. You will receive several emails as numbered items.
For each item, score the overall sentiment from -1.0 (hostile) through 0.0 (neutral) to 1.0 (very positive).

Respond with strict JSON only: an array with one object per item, in item order:
[{"item": 1, "sentiment_score": <-1.0-1.0>, "confidence": <0.0-1.0>}, ...]`

// DraftSystemPrompt defines the role for reply draft generation.
const DraftSystemPrompt = `You are an email assistant drafting a reply on behalf of the recipient.
Write a concise, professional reply to the email. Match the sender's language.
Do not invent commitments, dates, or figures that are not in the email.

Respond with strict JSON only:
{"draft": "<reply text>", "confidence": <0.0-1.0>}`

// SentimentSystemPrompt defines the role for sentiment scoring.
const SentimentSystemPrompt = `You are an email sentiment analyst. Score the overall sentiment of the email
from -1.0 (hostile) through 0.0 (neutral) to 1.0 (very positive).

Respond with strict JSON only:
{"sentiment_score": <-1.0-1.0>, "confidence": <0.0-1.0>}`

// ExtractTasksSystemPrompt defines the role for task extraction.
const ExtractTasksSystemPrompt = `You are an email task extractor. List every concrete action item the recipient
is asked to perform. Phrase each task as a short imperative sentence.
Return an empty array when the email contains no action items.

Respond with strict JSON only:
{"tasks": ["<task>", ...], "confidence": <0.0-1.0>}`
