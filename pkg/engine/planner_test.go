package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openfroyo/convergo/pkg/generation"
)

func genOf(managers map[string][]string) generation.Generation {
	g := generation.New()
	for name, items := range managers {
		g.Managers[name] = generation.ItemSet{Items: items}
	}
	return g
}

func genPtr(managers map[string][]string) *generation.Generation {
	g := genOf(managers)
	return &g
}

func TestPlanBuild(t *testing.T) {
	tests := []struct {
		name  string
		built *generation.Generation
		curr  generation.Generation
		order generation.ManagerOrder
		want  Plan
	}{
		{
			name: "first build adds everything",
			curr: genOf(map[string][]string{"system": {"x", "y"}}),
			want: Plan{First: true, Steps: []Step{
				{Manager: "system", Action: "add", Items: []string{"x", "y"}},
			}},
		},
		{
			name: "first build skips empty managers and duplicates",
			curr: genOf(map[string][]string{"apt": {"vim", "vim", " "}, "cargo": {}}),
			want: Plan{First: true, Steps: []Step{
				{Manager: "apt", Action: "add", Items: []string{"vim"}},
			}},
		},
		{
			name:  "diff removes then adds",
			built: genPtr(map[string][]string{"system": {"x", "y"}}),
			curr:  genOf(map[string][]string{"system": {"y", "z"}}),
			want: Plan{Steps: []Step{
				{Manager: "system", Action: "remove", Items: []string{"x"}},
				{Manager: "system", Action: "add", Items: []string{"z"}},
			}},
		},
		{
			name:  "unchanged generation plans nothing",
			built: genPtr(map[string][]string{"apt": {"vim", "git"}}),
			curr:  genOf(map[string][]string{"apt": {"git", "vim", "vim"}}),
			want:  Plan{},
		},
		{
			name:  "new manager gets a full add",
			built: genPtr(map[string][]string{"apt": {"vim"}}),
			curr:  genOf(map[string][]string{"apt": {"vim"}, "flatpak": {"org.gimp.GIMP"}}),
			want: Plan{Steps: []Step{
				{Manager: "flatpak", Action: "add", Items: []string{"org.gimp.GIMP"}},
			}},
		},
		{
			name:  "dropped managers lose everything last",
			built: genPtr(map[string][]string{"apt": {"vim"}, "cargo": {"ripgrep"}, "pip": {"black", "black"}}),
			curr:  genOf(map[string][]string{"apt": {"vim", "git"}}),
			want: Plan{Steps: []Step{
				{Manager: "apt", Action: "add", Items: []string{"git"}},
				{Manager: "cargo", Action: "remove", Items: []string{"ripgrep"}},
				{Manager: "pip", Action: "remove", Items: []string{"black"}},
			}},
		},
		{
			name:  "order pins managers",
			curr:  genOf(map[string][]string{"a": {"1"}, "b": {"2"}, "c": {"3"}}),
			order: generation.ManagerOrder{Begin: []string{"c"}, End: []string{"a"}},
			want: Plan{First: true, Steps: []Step{
				{Manager: "c", Action: "add", Items: []string{"3"}},
				{Manager: "b", Action: "add", Items: []string{"2"}},
				{Manager: "a", Action: "add", Items: []string{"1"}},
			}},
		},
		{
			name:  "order applies to dropped managers",
			built: genPtr(map[string][]string{"a": {"1"}, "b": {"2"}}),
			curr:  genOf(map[string][]string{}),
			order: generation.ManagerOrder{Begin: []string{"b"}},
			want: Plan{Steps: []Step{
				{Manager: "b", Action: "remove", Items: []string{"2"}},
				{Manager: "a", Action: "remove", Items: []string{"1"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanBuild(tt.built, tt.curr, tt.order)
			assert.Equal(t, tt.want.First, got.First)
			assert.Equal(t, tt.want.Steps, got.Steps)
		})
	}
}

func TestPlanManagers(t *testing.T) {
	p := Plan{Steps: []Step{
		{Manager: "apt", Action: "remove"},
		{Manager: "apt", Action: "add"},
		{Manager: "cargo", Action: "add"},
	}}
	assert.Equal(t, []string{"apt", "cargo"}, p.Managers())
	assert.False(t, p.IsEmpty())
	assert.True(t, Plan{}.IsEmpty())
}
