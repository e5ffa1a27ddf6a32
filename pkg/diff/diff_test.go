package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openfroyo/convergo/pkg/generation"
)

func TestHistory(t *testing.T) {
	tests := []struct {
		name string
		old  []string
		new  []string
		want []Entry
	}{
		{
			name: "identical lists",
			old:  []string{"a", "b"},
			new:  []string{"b", "a"},
			want: nil,
		},
		{
			name: "duplicates collapse",
			old:  []string{"x", "x", "y"},
			new:  []string{"y"},
			want: []Entry{{Mode: ModeRemove, Value: "x"}},
		},
		{
			name: "removes before adds",
			old:  []string{"x", "y"},
			new:  []string{"y", "z"},
			want: []Entry{{Mode: ModeRemove, Value: "x"}, {Mode: ModeAdd, Value: "z"}},
		},
		{
			name: "blank values ignored",
			old:  []string{"", "  "},
			new:  []string{" ", "a", ""},
			want: []Entry{{Mode: ModeAdd, Value: "a"}},
		},
		{
			name: "empty to full",
			old:  nil,
			new:  []string{"a", "b"},
			want: []Entry{{Mode: ModeAdd, Value: "a"}, {Mode: ModeAdd, Value: "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, History(tt.old, tt.new))
		})
	}
}

func TestHistoryConverges(t *testing.T) {
	cases := [][2][]string{
		{{"a", "b", "c"}, {"b", "d", "d", "e"}},
		{{}, {"x"}},
		{{"x", "x"}, {}},
		{{"p", "q", "r"}, {"r", "q", "p"}},
	}
	for _, c := range cases {
		got := Apply(c[0], History(c[0], c[1]))
		assert.ElementsMatch(t, generation.Dedup(c[1]), got)
	}
}

func TestHistoryMirror(t *testing.T) {
	a := []string{"a", "b", "c"}
	b := []string{"c", "d"}

	forward := History(a, b)
	backward := History(b, a)

	addsF, removesF := Split(forward)
	addsB, removesB := Split(backward)
	assert.ElementsMatch(t, addsF, removesB)
	assert.ElementsMatch(t, removesF, addsB)
}

func TestHistoryGen(t *testing.T) {
	old := generation.Generation{Managers: map[string]generation.ItemSet{
		"apt":   {Items: []string{"git", "vim"}},
		"snap":  {Items: []string{"spotify"}},
		"cargo": {Items: []string{"bat"}},
	}}
	cur := generation.Generation{Managers: map[string]generation.ItemSet{
		"apt":     {Items: []string{"git", "emacs"}},
		"flatpak": {Items: []string{"gimp"}},
		"cargo":   {Items: []string{"bat"}},
	}}

	got := HistoryGen(old, cur)

	assert.Equal(t, []Entry{{ModeRemove, "vim"}, {ModeAdd, "emacs"}}, got["apt"])
	assert.Equal(t, []Entry{{ModeAdd, "gimp"}}, got["flatpak"])
	assert.Equal(t, []Entry{{ModeRemove, "spotify"}}, got["snap"])
	assert.Empty(t, got["cargo"])
	assert.Equal(t, []string{"apt", "cargo", "flatpak", "snap"}, Managers(got))
}

func TestFormat(t *testing.T) {
	out := Format([]Entry{{ModeRemove, "x"}, {ModeAdd, "z"}})
	assert.Equal(t, "- x\n+ z\n", out)
}
