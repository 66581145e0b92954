package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// question is one line of input asked by the prompt.
type question struct {
	Key    string
	Prompt string
}

// promptModel is a bubbletea model that asks one question at a time.
type promptModel struct {
	questions []question
	idx       int
	inputs    []textinput.Model
	done      bool
}

func newPromptModel(questions []question) promptModel {
	inputs := make([]textinput.Model, len(questions))
	for i, q := range questions {
		ti := textinput.New()
		ti.Placeholder = q.Prompt
		ti.CharLimit = 64
		inputs[i] = ti
	}
	m := promptModel{
		questions: questions,
		inputs:    inputs,
	}
	if len(inputs) > 0 {
		m.inputs[0].Focus()
	}
	return m
}

func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.idx < len(m.inputs)-1 {
				m.inputs[m.idx].Blur()
				m.idx++
				m.inputs[m.idx].Focus()
				return m, textinput.Blink
			}
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.inputs[m.idx], cmd = m.inputs[m.idx].Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	if m.done || len(m.questions) == 0 {
		return ""
	}
	q := m.questions[m.idx]
	return fmt.Sprintf("(%d/%d) %s: %s\n", m.idx+1, len(m.questions), q.Prompt, m.inputs[m.idx].View())
}

// answers returns the entered values keyed by question key.
func (m promptModel) answers() map[string]string {
	out := make(map[string]string, len(m.questions))
	for i, q := range m.questions {
		out[q.Key] = strings.TrimSpace(m.inputs[i].Value())
	}
	return out
}

// ask runs the TUI and returns answers keyed by question key. Tests replace it.
var ask = func(questions []question) (map[string]string, error) {
	if len(questions) == 0 {
		return map[string]string{}, nil
	}
	result, err := tea.NewProgram(newPromptModel(questions)).Run()
	if err != nil {
		return nil, err
	}
	final, ok := result.(promptModel)
	if !ok || !final.done {
		return nil, fmt.Errorf("prompt cancelled")
	}
	return final.answers(), nil
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(prompt string) (bool, error) {
	answers, err := ask([]question{{Key: "confirm", Prompt: prompt + " [y/N]"}})
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answers["confirm"]) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
