// Package fsm предоставляет конечный автомат статусов с явной таблицей переходов.
package fsm

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition переход не разрешен таблицей
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError описывает отклоненный переход
type TransitionError struct {
	Machine string
	From    string
	To      string
}

// Error реализует интерфейс error
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: transition %s -> %s is not allowed", e.Machine, e.From, e.To)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrInvalidTransition)
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Table таблица разрешенных переходов. Заполняется при инициализации пакета и далее только читается.
type Table[S comparable] struct {
	name        string
	transitions map[S]map[S]struct{}
	terminal    map[S]struct{}
}

// NewTable создает пустую таблицу
func NewTable[S comparable](name string) *Table[S] {
	return &Table[S]{
		name:        name,
		transitions: make(map[S]map[S]struct{}),
		terminal:    make(map[S]struct{}),
	}
}

// Allow разрешает переходы from -> каждый из to
func (t *Table[S]) Allow(from S, to ...S) *Table[S] {
	targets, ok := t.transitions[from]
	if !ok {
		targets = make(map[S]struct{})
		t.transitions[from] = targets
	}
	for _, s := range to {
		targets[s] = struct{}{}
	}
	return t
}

// Terminal помечает финальные состояния, из них переходов нет
func (t *Table[S]) Terminal(states ...S) *Table[S] {
	for _, s := range states {
		t.terminal[s] = struct{}{}
		delete(t.transitions, s)
	}
	return t
}

// CanTransition проверяет переход без ошибки
func (t *Table[S]) CanTransition(from, to S) bool {
	if t.IsTerminal(from) {
		return false
	}
	_, ok := t.transitions[from][to]
	return ok
}

// Validate возвращает *TransitionError для запрещенного перехода
func (t *Table[S]) Validate(from, to S) error {
	if t.CanTransition(from, to) {
		return nil
	}
	return &TransitionError{Machine: t.name, From: fmt.Sprint(from), To: fmt.Sprint(to)}
}

// IsTerminal проверяет, является ли состояние финальным
func (t *Table[S]) IsTerminal(s S) bool {
	_, ok := t.terminal[s]
	return ok
}

// Name возвращает имя автомата
func (t *Table[S]) Name() string {
	return t.name
}

// HistoryEntry запись истории состояний
type HistoryEntry[S comparable] struct {
	State     S
	Timestamp time.Time
	Message   string
}

// Machine текущее состояние и append-only история, изменяемые только через Transition.
// Не потокобезопасен: принадлежит одному агрегату.
type Machine[S comparable] struct {
	table   *Table[S]
	current S
	history []HistoryEntry[S]
}

// NewMachine создает автомат в начальном состоянии с первой записью истории
func NewMachine[S comparable](table *Table[S], initial S, at time.Time, message string) *Machine[S] {
	return &Machine[S]{
		table:   table,
		current: initial,
		history: []HistoryEntry[S]{{State: initial, Timestamp: at, Message: message}},
	}
}

// Restore восстанавливает автомат из сохраненного состояния
func Restore[S comparable](table *Table[S], current S, history []HistoryEntry[S]) *Machine[S] {
	h := make([]HistoryEntry[S], len(history))
	copy(h, history)
	return &Machine[S]{table: table, current: current, history: h}
}

// Current возвращает текущее состояние
func (m *Machine[S]) Current() S {
	return m.current
}

// Transition выполняет переход с записью в историю
func (m *Machine[S]) Transition(to S, at time.Time, message string) error {
	if err := m.table.Validate(m.current, to); err != nil {
		return err
	}
	m.current = to
	m.history = append(m.history, HistoryEntry[S]{State: to, Timestamp: at, Message: message})
	return nil
}

// History возвращает копию истории
func (m *Machine[S]) History() []HistoryEntry[S] {
	h := make([]HistoryEntry[S], len(m.history))
	copy(h, m.history)
	return h
}

// IsTerminal проверяет, находится ли автомат в финальном состоянии
func (m *Machine[S]) IsTerminal() bool {
	return m.table.IsTerminal(m.current)
}
