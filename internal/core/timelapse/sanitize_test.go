package timelapse

import "testing"

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"benchy.gcode", "benchy"},
		{"My Cool Print (v2).gcode", "My_Cool_Print_v2"},
		{"a--b  c", "a_b_c"},
		{"[draft] tower #3", "draft_tower_3"},
		{"Tom & Jerry.gcode", "Tom_and_Jerry"},
		{"...", "unknown"},
		{"___", "unknown"},
		{"", "unknown"},
		{"normal_name", "normal_name"},
		{"semi;colon:test", "semi_colon_test"},
		{"path/to\\file", "path_to_file"},
	}
	for _, c := range cases {
		if got := SanitizeName(c.in); got != c.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
