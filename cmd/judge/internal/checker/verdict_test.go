package checker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sistem/judge/internal/types"
)

func TestResultFromExitCode(t *testing.T) {
	for code, want := range map[int]types.Result{
		0:    types.ResultOK,
		1:    types.ResultWA,
		2:    types.ResultPE,
		3:    types.ResultIE,
		99:   types.ResultIE,
		-1:   types.ResultIE,
		0xAC: types.ResultIE,
		0xAB: types.ResultIE,
	} {
		assert.Equal(t, want, resultFromExitCode(code), "exit code %d", code)
	}
}

func TestScorecard(t *testing.T) {
	card := scorecard{}
	assert.Equal(t, types.ResultOK, card.result())

	card.record(types.ResultOK, 2)
	card.record(types.ResultTL, 2)
	card.record(types.ResultOK, 2)
	card.record(types.ResultWA, 2)

	assert.Equal(t, 4, card.score)
	assert.Equal(t, types.ResultTL, card.result(), "first failure wins")
}
