package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Repositories RFQ仓库集合
type Repositories struct {
	Project    *ProjectRepository
	Stage      *StageRepository
	Transition *TransitionRepository
	Document   *DocumentRepository
}

// NewRepositories 创建RFQ仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Project:    NewProjectRepository(db),
		Stage:      NewStageRepository(db),
		Transition: NewTransitionRepository(db),
		Document:   NewDocumentRepository(db),
	}
}
