package excuse

import "fmt"

const excusePromptTemplate = `[INST] Generate a concise, realistic, and believable excuse for:
- Scenario: %s
- User Role: %s
- Recipient: %s
- Urgency: %s
- Believability: %d/10 (1=simple, 10=highly detailed)
Keep it under 50 words and match the tone to the recipient.
Write the excuse in %s only. Do not add a translation, a label or any preamble. [/INST]`

// BuildPrompt renders the instruction prompt for a normalized request.
func BuildPrompt(req Request, languageName string) string {
	return fmt.Sprintf(excusePromptTemplate,
		req.Scenario,
		req.UserRole,
		req.Recipient,
		req.Urgency,
		int(req.Believability),
		languageName,
	)
}
