// SPDX-License-Identifier: MIT

package audit

import (
	"fmt"
	"strings"
)

func policyExtractionPrompt(fullPolicy string) string {
	return "Extract a list of all unique security policies with IDs or titles from the following documents. " +
		"List them in the format: POLICY_ID or TITLE: Policy description." +
		"\n\nDocuments:\n" +
		fullPolicy + "\n\nList of Policies:"
}

func policyMatchPrompt(evidence string, policies []Policy) string {
	var roster strings.Builder
	for _, p := range policies {
		roster.WriteString(p.ID)
		roster.WriteString(": ")
		roster.WriteString(p.Description)
		roster.WriteString("\n")
	}
	return "Given the following evidence content, determine which policy from the list below is most relevant. " +
		"Respond only with the POLICY_ID or TITLE.\n\n" +
		"Evidence:\n" + evidence + "\n\n" +
		"Policies:\n" + roster.String()
}

func assessmentPrompt(evidence, kbContext string) string {
	return "You are an information security auditor.\n" +
		fmt.Sprintf("Evidence snippet:\n%s\n\n", evidence) +
		fmt.Sprintf("Policy/report context:\n%s\n\n", kbContext) +
		"1. Identify the type of evidence (e.g. DB log, password log, screenshot, config).\n" +
		"2. Assess its compliance with the policy context and SOC2/CRI.\n" +
		"3. Provide the control statement against which the evidence is tested.\n" +
		"4. If the evidence is not compliant, return 'Non-Compliant', the log entry where it fails the control and a rationale as to why it fails the control statement.\n" +
		"5. If compliant, return 'Compliant' with no further details.\n" +
		"6. Suggest improvements and remedy if applicable. If remedy measures are already present and evident in logs, point those out.\n\n" +
		"Provide response in below format:\n" +
		"Control Statement: <control statement>\n" +
		"Assessment: <Compliant/Non-Compliant>\n" +
		"Evidence Type: <evidence type>\n" +
		"Log Entry: <if Non-Compliant, log entry where it fails>\n" +
		"Rationale: <if Non-Compliant, rationale for failure>\n" +
		"Improvements: <if applicable, suggestions for improvement/remedy measures if Non-Compliant>\n"
}

func chatPrompt(question, kbContext, assessmentContext string) string {
	return "You are an information security audit assistant. " +
		fmt.Sprintf("User question: %s\n\n", question) +
		fmt.Sprintf("Policy/Report context:\n%s\n\n", kbContext) +
		fmt.Sprintf("Assessment context:\n%s\n\n", assessmentContext) +
		"Answer in a clear and concise way."
}

// fieldValue extracts the value of a "Label: value" line from a structured
// model reply, or "" when the label is absent.
func fieldValue(reply, label string) string {
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, label+":"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
