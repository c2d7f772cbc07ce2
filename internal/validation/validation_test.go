package validation_test

import (
	"testing"

	"github.com/nixpig/nsutil/internal/validation"
	"github.com/stretchr/testify/assert"
)

func TestTargetPIDValidation(t *testing.T) {
	scenarios := map[string]struct {
		pid   int
		valid bool
	}{
		"test init pid":     {pid: 1, valid: true},
		"test ordinary pid": {pid: 4096, valid: true},
		"test zero pid":     {pid: 0, valid: false},
		"test negative pid": {pid: -1, valid: false},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, data.valid, validation.TargetPID(data.pid) == nil)
		})
	}
}

func TestOwnerIDValidation(t *testing.T) {
	scenarios := map[string]struct {
		id    int
		valid bool
	}{
		"test root":        {id: 0, valid: true},
		"test normal user": {id: 1000, valid: true},
		"test negative":    {id: -1, valid: false},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, data.valid, validation.OwnerID("uid", data.id) == nil)
		})
	}
}

func TestAbsolutePathValidation(t *testing.T) {
	scenarios := map[string]struct {
		path  string
		valid bool
	}{
		"test rooted path":   {path: "/sbin/init", valid: true},
		"test root itself":   {path: "/", valid: true},
		"test relative path": {path: "sbin/init", valid: false},
		"test dotted path":   {path: "./init", valid: false},
		"test empty path":    {path: "", valid: false},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			valid := validation.AbsolutePath("init path", data.path) == nil

			assert.Equal(t, data.valid, valid)
		})
	}
}
