// Jobclerk is a job dispatch and lease tracking service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestLevelParsing(t *testing.T) {
	tests := []struct {
		level   string
		debugOn bool
		warnOn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
		{"", false, true},
		{"garbage", false, true},
	}
	for _, tt := range tests {
		log := New(tt.level)
		if got := log.Enabled(context.Background(), slog.LevelDebug); got != tt.debugOn {
			t.Errorf("Level %q: debug enabled = %v, want %v", tt.level, got, tt.debugOn)
		}
		if got := log.Enabled(context.Background(), slog.LevelWarn); got != tt.warnOn {
			t.Errorf("Level %q: warn enabled = %v, want %v", tt.level, got, tt.warnOn)
		}
	}
}
