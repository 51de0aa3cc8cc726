package worker

import (
	"fmt"
	"strings"

	"github.com/liliang-cn/hive/pkg/hive"
)

const finalAnswerMarker = "FINAL_ANSWER:"
const toolCallMarker = "TOOL_CALL:"

func chainOfThoughtPrompt(subtask *hive.Subtask) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\n", subtask.Description)
	sb.WriteString("Work through this step by step using THOUGHT/ACTION/OBSERVATION lines, ")
	sb.WriteString("then conclude with a single line starting with \"FINAL_ANSWER:\" followed by your answer.\n")
	return sb.String()
}

func specializedPrompt(subtask *hive.Subtask, role hive.Role, toolNames []string, transcript string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a %s-role worker handling this subtask:\n%s\n\n", role, subtask.Description)
	if len(toolNames) > 0 {
		fmt.Fprintf(&sb, "Available tools: %s\n", strings.Join(toolNames, ", "))
		sb.WriteString("To call one, reply with a single line: \"TOOL_CALL: <tool_name> <json args>\".\n")
	}
	sb.WriteString("When you have the answer, reply with a single line: \"FINAL_ANSWER: <answer>\".\n")
	if transcript != "" {
		sb.WriteString("\nConversation so far:\n")
		sb.WriteString(transcript)
	}
	return sb.String()
}

func selfReviewPrompt(subtask *hive.Subtask) string {
	return fmt.Sprintf(
		"Review your own result for this task.\nTask: %s\nResult: %s\n\n"+
			"Respond with JSON only: {\"needs_correction\": bool, \"issues\": [\"...\"], \"improvements\": [\"...\"]}",
		subtask.Description, subtask.Result)
}

func peerReviewPrompt(subtask *hive.Subtask) string {
	return fmt.Sprintf(
		"Evaluate another worker's result for this task.\nTask: %s\nResult: %s\n\n"+
			"Respond with JSON only: {\"needs_correction\": bool, \"accuracy_score\": 0.0, "+
			"\"completeness_score\": 0.0, \"quality_score\": 0.0, \"issues\": [\"...\"], "+
			"\"improvements\": [\"...\"], \"confidence\": 0.0}",
		subtask.Description, subtask.Result)
}

func correctionPrompt(subtask *hive.Subtask, issues []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Revise this result to address the reviewer feedback below.\n\nTask: %s\n", subtask.Description)
	fmt.Fprintf(&sb, "Current result: %s\n\nFeedback:\n", subtask.Result)
	for _, issue := range issues {
		fmt.Fprintf(&sb, "- %s\n", issue)
	}
	sb.WriteString("\nReply with only the corrected result text.")
	return sb.String()
}

// extractFinalAnswer returns the text after the FINAL_ANSWER marker, or ""
// with ok=false if the marker is absent.
func extractFinalAnswer(text string) (string, bool) {
	idx := strings.Index(text, finalAnswerMarker)
	if idx == -1 {
		return "", false
	}
	return strings.TrimSpace(text[idx+len(finalAnswerMarker):]), true
}

// extractToolCall returns the tool name and raw argument string after the
// TOOL_CALL marker, or ok=false if absent.
func extractToolCall(text string) (name, rawArgs string, ok bool) {
	idx := strings.Index(text, toolCallMarker)
	if idx == -1 {
		return "", "", false
	}
	line := strings.TrimSpace(text[idx+len(toolCallMarker):])
	if nl := strings.IndexByte(line, '\n'); nl != -1 {
		line = line[:nl]
	}
	parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", false
	}
	name = parts[0]
	if len(parts) > 1 {
		rawArgs = parts[1]
	}
	return name, rawArgs, true
}
