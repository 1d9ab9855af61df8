package domain

import (
	"errors"
)

// Статусы State Machine апрува одного действия
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
)

var (
	ErrInvalidTransition = errors.New("invalid approval status transition")
	ErrAlreadyProcessed  = errors.New("approval request already processed")
)

// CanTransition проверяет правила конечного автомата: решение принимается один раз.
func CanTransition(from, next ApprovalStatus) error {
	if from != StatusPending {
		return ErrAlreadyProcessed
	}
	if next == StatusPending {
		return ErrInvalidTransition
	}
	return nil
}

// PendingApprovalSet — подмножество превью с requiresApproval = true.
// Перед исполнением эти действия должны быть явно переданы по имени.
type PendingApprovalSet struct {
	order  []string
	status map[string]ApprovalStatus
}

func NewPendingApprovalSet(previews []ExecutionPreview) *PendingApprovalSet {
	s := &PendingApprovalSet{status: make(map[string]ApprovalStatus)}
	for _, p := range previews {
		if !p.RequiresApproval {
			continue
		}
		if _, seen := s.status[p.Action.Name]; seen {
			continue
		}
		s.order = append(s.order, p.Action.Name)
		s.status[p.Action.Name] = StatusPending
	}
	return s
}

func (s *PendingApprovalSet) Contains(name string) bool {
	_, ok := s.status[name]
	return ok
}

func (s *PendingApprovalSet) Len() int {
	return len(s.order)
}

// Names возвращает имена в порядке превью.
func (s *PendingApprovalSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Status — текущий статус действия; для имени вне набора возвращает "".
func (s *PendingApprovalSet) Status(name string) ApprovalStatus {
	return s.status[name]
}

// Decide фиксирует решение оператора по действию из набора.
func (s *PendingApprovalSet) Decide(name string, approved bool) error {
	current, ok := s.status[name]
	if !ok {
		return ErrUnknownAction
	}
	next := StatusRejected
	if approved {
		next = StatusApproved
	}
	if err := CanTransition(current, next); err != nil {
		return err
	}
	s.status[name] = next
	return nil
}
