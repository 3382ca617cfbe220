package slackadapter

import (
	"fmt"

	"github.com/handoffhq/handoff/internal/model"
	"github.com/slack-go/slack"
)

// ApprovalBlocks renders an ApprovalRequest as an interactive message
// with Approve/Reject buttons. Once resolved, RenderResolvedApproval
// replaces these same blocks in place (double-submission prevention: a
// second click on a stale button resolves against the coordinator, which
// reports NotFound or AlreadyConsumed, and the card is re-rendered either
// way so the operator sees the authoritative outcome).
func ApprovalBlocks(ar *model.ApprovalRequest) slack.Blocks {
	header := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf("*Approval requested:* %s\n`%s` — risk: *%s*", ar.Title, ar.FilePath, ar.RiskLevel), false, false)

	diff := slack.NewTextBlockObject(slack.MarkdownType, "```\n"+truncate(ar.DiffContent, 2800)+"\n```", false, false)

	approve := slack.NewButtonBlockElement("approve:"+ar.ID, ar.ID, slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false))
	approve.Style = slack.StylePrimary
	reject := slack.NewButtonBlockElement("reject:"+ar.ID, ar.ID, slack.NewTextBlockObject(slack.PlainTextType, "Reject", false, false))
	reject.Style = slack.StyleDanger

	return slack.Blocks{BlockSet: []slack.Block{
		slack.NewSectionBlock(header, nil, nil),
		slack.NewSectionBlock(diff, nil, nil),
		slack.NewActionBlock("approval_actions", approve, reject),
	}}
}

// RenderResolvedApproval replaces an approval card's action buttons with
// a static line recording the outcome.
func RenderResolvedApproval(ar *model.ApprovalRequest, resolvedBy string) slack.Blocks {
	header := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf("*Approval %s* — %s\n`%s`", ar.Status, ar.Title, ar.FilePath), false, false)
	footer := slack.NewTextBlockObject(slack.MarkdownType, "resolved by <@"+resolvedBy+">", false, false)

	return slack.Blocks{BlockSet: []slack.Block{
		slack.NewSectionBlock(header, nil, nil),
		slack.NewContextBlock("resolved_by", footer),
	}}
}

// ContinuationPromptBlocks renders a forwarded meta-prompt with
// Continue/Refine/Stop buttons.
func ContinuationPromptBlocks(cpID, promptText string) slack.Blocks {
	header := slack.NewTextBlockObject(slack.MarkdownType, promptText, false, false)
	cont := slack.NewButtonBlockElement("continue:"+cpID, cpID, slack.NewTextBlockObject(slack.PlainTextType, "Continue", false, false))
	refine := slack.NewButtonBlockElement("refine:"+cpID, cpID, slack.NewTextBlockObject(slack.PlainTextType, "Refine", false, false))
	stop := slack.NewButtonBlockElement("stop:"+cpID, cpID, slack.NewTextBlockObject(slack.PlainTextType, "Stop", false, false))
	stop.Style = slack.StyleDanger

	return slack.Blocks{BlockSet: []slack.Block{
		slack.NewSectionBlock(header, nil, nil),
		slack.NewActionBlock("continuation_actions", cont, refine, stop),
	}}
}

// RefineModal builds the modal view opened when the operator clicks
// Refine: a single multiline input collecting their replacement
// instruction.
func RefineModal(cpID string) slack.ModalViewRequest {
	input := slack.NewPlainTextInputBlockElement(
		slack.NewTextBlockObject(slack.PlainTextType, "What should the agent do instead?", false, false),
		"instruction",
	)
	input.Multiline = true

	return slack.ModalViewRequest{
		Type:       slack.VTModal,
		CallbackID: "refine:" + cpID,
		Title:      slack.NewTextBlockObject(slack.PlainTextType, "Refine instruction", false, false),
		Submit:     slack.NewTextBlockObject(slack.PlainTextType, "Send", false, false),
		Close:      slack.NewTextBlockObject(slack.PlainTextType, "Cancel", false, false),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewInputBlock("instruction_block", slack.NewTextBlockObject(slack.PlainTextType, "Instruction", false, false), nil, input),
		}},
	}
}

// StallNudgeBlocks renders a stall alert notification with a Dismiss
// button the operator can use to close it out without the agent itself
// producing activity.
func StallNudgeBlocks(alertID, idleSummary, progressSummary string) slack.Blocks {
	header := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf(":warning: Session appears stalled (%s)", idleSummary), false, false)
	progress := slack.NewTextBlockObject(slack.MarkdownType, progressSummary, false, false)
	dismiss := slack.NewButtonBlockElement("dismiss_stall:"+alertID, alertID,
		slack.NewTextBlockObject(slack.PlainTextType, "Dismiss", false, false))

	return slack.Blocks{BlockSet: []slack.Block{
		slack.NewSectionBlock(header, nil, nil),
		slack.NewSectionBlock(progress, nil, nil),
		slack.NewActionBlock("stall_actions", dismiss),
	}}
}

// RenderResolvedStallAlert replaces a stall card's Dismiss button with a
// static line recording how the alert closed (self-recovered or
// dismissed).
func RenderResolvedStallAlert(status model.StallAlertStatus, idleSummary string) slack.Blocks {
	header := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf("*Stall alert %s* — was idle %s", status, idleSummary), false, false)
	return slack.Blocks{BlockSet: []slack.Block{
		slack.NewSectionBlock(header, nil, nil),
	}}
}

// severityEmoji maps a remote_log severity to a leading glyph, matching
// the convention already used for stall alerts (StallNudgeBlocks).
func severityEmoji(severity string) string {
	switch severity {
	case "success":
		return ":white_check_mark:"
	case "warning":
		return ":warning:"
	case "error":
		return ":x:"
	default:
		return ":information_source:"
	}
}

// StatusPostBlocks renders a remote_log status message.
func StatusPostBlocks(severity, message string) slack.Blocks {
	text := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf("%s %s", severityEmoji(severity), message), false, false)
	return slack.Blocks{BlockSet: []slack.Block{slack.NewSectionBlock(text, nil, nil)}}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n… (truncated)"
}
