//go:build !gokumo_without_kumo

package plugins

import "github.com/joshp123/gokumo/plugins/kumo"

func init() {
	Register(kumo.NewPlugin)
}
