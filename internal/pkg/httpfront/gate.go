package httpfront

// gateFunc decides whether an authenticated user may reach a route,
// per the permission gate table (spec §4.6).
type gateFunc func(u authUser) bool

func gateNone(authUser) bool { return true }

func gateCreateEnabled(u authUser) bool { return u.IsAdmin || u.CreateEnabled }

func gateRemoveEnabled(u authUser) bool { return u.IsAdmin || u.RemoveEnabled }

func gatePacketSearch(u authUser) bool { return u.IsAdmin || u.PacketSearch }

// gateHideStats and gateHideFiles gate the *inverse* of their user
// flag: a user with HideStats=true is hidden from /stats (spec §4.6
// "inverse of hideStats / hideFiles").
func gateHideStats(u authUser) bool { return u.IsAdmin || !u.HideStats }

func gateHideFiles(u authUser) bool { return u.IsAdmin || !u.HideFiles }

func gateDisablePcapDownload(u authUser) bool { return u.IsAdmin || !u.DisablePcapDownload }

// gateESAdmin permits an explicit esAdminUsers allowlist, or falls
// back to createEnabled when the node is not configured for
// multi-cluster ES (spec §4.6 "explicit esAdminUsers list (or
// createEnabled when non-multi)"). The allowlist itself is carried on
// Front since it is a configuration value, not a per-user flag.
func (f *Front) esAdminGate(u authUser) bool {
	cfg := f.cfg.Get()
	if !cfg.MultiES {
		return u.IsAdmin || u.CreateEnabled
	}
	for _, id := range cfg.ESAdminUsers {
		if id == u.UserID {
			return true
		}
	}
	return u.IsAdmin
}
