package llm

// SystemPrompt is the default instruction for commitment extraction.
const SystemPrompt = `You review phone calls between an insurance agency's agents and their customers.
Your job is to find every concrete promise the AGENT made: things the agent said they would do
after the call (send documents, call back, update a policy, add a vehicle, issue a certificate,
research a question, review a quote).

RULES:
- Only the agent's promises count. Ignore what the customer promises.
- Ignore vague pleasantries ("I'll be here if you need anything").
- Keep the description short and imperative ("Send renewal documents").
- target is "agency" for policy, coverage, vehicle, endorsement, certificate and document work
  handled in the agency system; otherwise "crm".
- requires_approval is true for policy, coverage, vehicle and endorsement changes.`

// ExtractionPrompt asks for the structured result.
const ExtractionPrompt = `Return ONLY valid JSON in this shape, with an empty list when there are no commitments:

{
  "commitments": [
    {
      "type": "follow_up|research|review|document_sending|policy_update|vehicle_update|coverage_adjustment|endorsement|certificate",
      "description": "short imperative description",
      "when": "due phrase exactly as spoken, or empty",
      "target": "crm|agency",
      "requires_approval": false,
      "priority": "low|normal|high",
      "quote": "the sentence that contains the promise",
      "confidence": 0.0
    }
  ]
}`
