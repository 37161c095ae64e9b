package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"sentinel-soc/internal/tui/api"
	"sentinel-soc/internal/tui/scenes"
)

func newTestModel() Model {
	// The client points nowhere; scenes must render without a backend.
	return NewModel(api.NewClient("http://127.0.0.1:1"))
}

func keyMsg(s string) tea.KeyMsg {
	if s == "tab" {
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_SceneSwitching(t *testing.T) {
	m := newTestModel()
	if m.scene != SceneDashboard {
		t.Fatalf("initial scene = %v, want dashboard", m.scene)
	}

	model, _ := m.Update(keyMsg("2"))
	m = model.(Model)
	if m.scene != SceneThreats {
		t.Errorf("after '2': scene = %v, want threats", m.scene)
	}

	model, _ = m.Update(keyMsg("3"))
	m = model.(Model)
	if m.scene != SceneReports {
		t.Errorf("after '3': scene = %v, want reports", m.scene)
	}

	model, _ = m.Update(keyMsg("1"))
	m = model.(Model)
	if m.scene != SceneDashboard {
		t.Errorf("after '1': scene = %v, want dashboard", m.scene)
	}
}

func TestModel_TabCycles(t *testing.T) {
	m := newTestModel()
	order := []Scene{SceneThreats, SceneReports, SceneDashboard}
	for i, want := range order {
		model, _ := m.Update(keyMsg("tab"))
		m = model.(Model)
		if m.scene != want {
			t.Fatalf("tab press %d: scene = %v, want %v", i+1, m.scene, want)
		}
	}
}

func TestModel_Quit(t *testing.T) {
	m := newTestModel()
	model, cmd := m.Update(keyMsg("q"))
	m = model.(Model)
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if !m.quitting {
		t.Error("quitting flag not set")
	}
	if m.View() != "" {
		t.Error("quitting view should be empty")
	}
}

func TestModel_HeaderHighlightsActiveTab(t *testing.T) {
	m := newTestModel()
	model, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = model.(Model)

	view := m.View()
	if !strings.Contains(view, "Dashboard") {
		t.Error("header missing Dashboard tab")
	}
	if !strings.Contains(view, "Threats") || !strings.Contains(view, "Reports") {
		t.Error("header missing scene tabs")
	}
	if !strings.Contains(view, "[q] Quit") {
		t.Error("footer missing quit hint")
	}
}

func TestModel_TickReschedulesOnlyActiveScene(t *testing.T) {
	m := newTestModel()

	// A tick for the active scene refetches and reschedules
	model, cmd := m.Update(scenes.TickMsg{Scene: "dashboard"})
	m = model.(Model)
	if cmd == nil {
		t.Error("active-scene tick should produce a command")
	}

	// A stale dashboard tick arriving after switching scenes goes to the
	// threats scene, which ignores it
	model, _ = m.Update(keyMsg("2"))
	m = model.(Model)
	model, cmd = m.Update(scenes.TickMsg{Scene: "dashboard"})
	m = model.(Model)
	if cmd != nil {
		t.Error("stale tick should not produce a command")
	}
	if m.scene != SceneThreats {
		t.Errorf("scene = %v, want threats", m.scene)
	}
}

func TestModel_ViewRendersEachScene(t *testing.T) {
	m := newTestModel()
	model, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = model.(Model)

	wants := map[string]string{
		"1": "Sentinel-SOC Dashboard",
		"2": "Detected Threats",
		"3": "Missed Detections",
	}
	for key, want := range wants {
		model, _ := m.Update(keyMsg(key))
		m = model.(Model)
		if view := m.View(); !strings.Contains(view, want) {
			t.Errorf("scene %s view missing %q", key, want)
		}
	}
}
