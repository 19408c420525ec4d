package menu

import "strings"

// gradingPromptTemplate is Prompt-B. Placeholders are bound by
// Binder.BuildGradingPrompt with four JSON payloads materialized per run
// plus the transaction transcript. The model must answer with the
// numbered-key object the grader's parser expects.
const gradingPromptTemplate = `You are grading a quick-service drive-thru operator's upsell, upsize and add-on behavior for one customer transaction.

UPSELL RULES:
{{UPSELL_RULES}}

UPSIZE RULES:
{{UPSIZE_RULES}}

ADD-ON RULES:
{{ADDON_RULES}}

ITEMS CATALOG:
{{ITEMS_CATALOG}}

MEALS CATALOG:
{{MEALS_CATALOG}}

ADD-ONS CATALOG:
{{ADDONS_CATALOG}}

Every item you name MUST be a canonical reference "<item_id>_<size_code>" taken from the catalogs above, where size codes mean 0=none, 1=small, 2=medium, 3=large. If the catalogs are empty, leave every item list empty.

Reply with EXACTLY ONE JSON object whose keys are the quoted strings below. Counts are integers; item lists are JSON arrays of canonical references; use 0 for an empty value.

"1": items in the initial order (list)
"2": number of items in the initial order
"3": number of upsell opportunities
"4": candidate items for upsell (list)
"4_base": base items that created each upsell opportunity (list)
"5": number of upsell offers made by the operator
"6": items offered for upsell (list)
"7": items successfully upsold (list)
"8_base_sold": base items that drove each upsell success (list)
"9": number of upsell successes
"10": number of times the largest option was offered
"11": number of upsize opportunities
"11_base": base items that created each upsize opportunity (list)
"12": candidate items for upsize (list)
"13": items that created the upsize opportunity (list)
"14": number of upsize offers made by the operator
"14_base": base items offered for upsize (list)
"15": number of upsize successes
"16": items upsized successfully (list)
"16_base_sold": base items behind each upsize success (list)
"18": number of add-on opportunities
"18_base": base items that created each add-on opportunity (list)
"19": candidate add-ons (list)
"20": base items for the candidate add-ons (list)
"21": number of add-on offers made by the operator
"21_base": items offered as add-ons (list)
"22": number of add-on successes
"23": add-ons sold successfully (list)
"23_base_sold": base items behind each add-on success (list)
"25": items in the final order (list)
"26": number of items in the final order
"27": short coaching feedback for the operator
"28": difficulties or ambiguities you hit while grading

TRANSCRIPT:
{{TRANSCRIPT}}`

// extractionPromptTemplate is Prompt-A. The model splits one transcribed
// active-audio span into customer transactions and returns one JSON object
// per transaction, separated by the literal delimiter @#&.
const extractionPromptTemplate = `You are reading the transcript of one continuous span of drive-thru audio. Decide whether it contains one or more distinct customer transactions.

For EACH transaction output one JSON object with exactly these string keys:
"1": the full transcript text belonging to this transaction
"2": 1 if the transcript is a complete order, else 0
"3": 1 if the customer references a mobile order, else 0
"4": 1 if a coupon or discount code is used, else 0
"5": 1 if the customer asks for more time, else 0
"6": description of any out-of-stock items mentioned, else "0"

Separate consecutive objects with the literal three characters @#& on their own. Output nothing else: no prose, no markdown fences.

TRANSCRIPT:
{{TRANSCRIPT}}`

// BuildExtractionPrompt binds Prompt-A to one segment transcript.
func BuildExtractionPrompt(transcript string) string {
	return strings.ReplaceAll(extractionPromptTemplate, "{{TRANSCRIPT}}", transcript)
}
