package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sistem/judge/internal/cmdtemplate"
)

type Compiler struct {
	Name string
	// Source file extension, also used as the language tag
	Lang          string
	BuildTemplate string
	RunTemplate   string
	// Key of the detection table entry that created this row
	Autodetect datatypes.Null[string]
	// Program probed on PATH to decide whether this host can use the compiler
	Executable string
	Model
}

func (Compiler) TableName() string {
	return "compiler"
}

func (c Compiler) GetID() uuid.UUID {
	return c.ID
}

// Templates are checked before they are ever stored
func (c *Compiler) BeforeSave(*gorm.DB) error {
	if err := cmdtemplate.Validate(c.BuildTemplate); err != nil {
		return err
	}

	_, err := cmdtemplate.ParseRun(c.RunTemplate)
	return err
}
