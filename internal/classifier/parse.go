package classifier

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var codeFence = regexp.MustCompile("```json\\n?|\\n?```")

// presenceReply is the stage 1 answer
type presenceReply struct {
	BinsPresent bool   `json:"binsPresent"`
	Reason      string `json:"reason"`
}

// issueReply is the stage 2 answer. EventFound is nil when no issue was seen.
type issueReply struct {
	EventFound *string `json:"eventFound"`
	Reason     string  `json:"reason"`
}

// parseReply decodes a model reply into out. Code fences are stripped first; if the
// remainder is not valid JSON the outermost {...} block is tried before giving up.
func parseReply(reply string, out any) error {
	clean := strings.TrimSpace(codeFence.ReplaceAllString(reply, ""))
	if clean == "" {
		return fmt.Errorf("empty reply")
	}

	err := json.Unmarshal([]byte(clean), out)
	if err == nil {
		return nil
	}

	if block := extractJSON(clean); block != "" && block != clean {
		if err2 := json.Unmarshal([]byte(block), out); err2 == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to parse reply: %w", err)
}

// parsePresence never fails: anything unreadable counts as "no bins"
func parsePresence(reply string) presenceReply {
	var r presenceReply
	if err := parseReply(reply, &r); err != nil {
		return presenceReply{BinsPresent: false, Reason: "Error parsing response"}
	}
	return r
}

// parseIssue never fails: anything unreadable counts as "no issue"
func parseIssue(reply string) issueReply {
	var r issueReply
	if err := parseReply(reply, &r); err != nil {
		return issueReply{Reason: "Error parsing response"}
	}
	return r
}

// extractJSON returns the outermost {...} block of text, or "" when there is none
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}
