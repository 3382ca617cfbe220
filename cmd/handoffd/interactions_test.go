package main

import (
	"testing"

	"github.com/handoffhq/handoff/internal/slackadapter"
	"github.com/stretchr/testify/assert"
)

func TestIdFromInteraction_PrefersValue(t *testing.T) {
	in := slackadapter.Interaction{ActionID: "approve:ar-1", Value: "ar-1"}
	assert.Equal(t, "ar-1", idFromInteraction("approve:", in))
}

func TestIdFromInteraction_FallsBackToActionIDForViewSubmission(t *testing.T) {
	in := slackadapter.Interaction{ActionID: "refine:cp-1", ViewValues: map[string]string{"instruction_block": "do something else"}}
	assert.Equal(t, "cp-1", idFromInteraction("refine:", in))
}
