package models

import (
	"github.com/google/uuid"
)

type TestGroup struct {
	ProblemID uuid.UUID
	Position  int
	// Awarded only when every test of the group passes
	Score        int
	ScorePerTest int
	// Keep running the group's tests after a failure
	CheckAll bool
	Model
}

// Group with the default scoring: one point per passing test, no bonus
func NewTestGroup(problemID uuid.UUID, position int) *TestGroup {
	return &TestGroup{
		ProblemID:    problemID,
		Position:     position,
		ScorePerTest: 1,
	}
}

func (TestGroup) TableName() string {
	return "test_group"
}

func (g TestGroup) GetID() uuid.UUID {
	return g.ID
}

type TestPair struct {
	TestGroupID uuid.UUID
	Position    int
	Input       []byte
	Pattern     []byte
	Model
}

func (TestPair) TableName() string {
	return "test_pair"
}

func (p TestPair) GetID() uuid.UUID {
	return p.ID
}
