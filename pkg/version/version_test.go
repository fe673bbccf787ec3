package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.Version != Version || info.GoVersion != runtime.Version() {
		t.Errorf("unexpected info: %+v", info)
	}
	if !strings.HasPrefix(info.String(), "neustart "+Version) {
		t.Errorf("unexpected string %q", info.String())
	}
}
