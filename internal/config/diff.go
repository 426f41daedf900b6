package config

import (
	"reflect"
	"sort"
	"strings"

	logx "wafleet/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) a list of bot identifiers whose entry changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	botChanged := diffBots(oldCfg.Bots, newCfg.Bots)
	if len(botChanged) > 0 {
		changed = append(changed, "bots")
		attrs = append(attrs,
			logx.Int("bots.changed_count", len(botChanged)),
			logx.Int("bots.total", len(newCfg.Bots)),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
			logx.String("dispatch.send_timeout", strings.TrimSpace(newCfg.Dispatch.SendTimeout)),
		)
	}

	if oldCfg.Session != newCfg.Session {
		changed = append(changed, "session")
		attrs = append(attrs,
			logx.Int("session.history_size", newCfg.Session.HistorySize),
			logx.String("session.health_interval", strings.TrimSpace(newCfg.Session.HealthInterval)),
			logx.Int("session.recovery_max_attempts", newCfg.Session.RecoveryMaxAttempts),
			logx.String("session.recovery_window", strings.TrimSpace(newCfg.Session.RecoveryWindow)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.listen", strings.TrimSpace(newCfg.Relay.Listen)),
			logx.String("relay.forward_timeout", strings.TrimSpace(newCfg.Relay.ForwardTimeout)),
		)
	}

	// Notify (never log token). Nil means disabled.
	oN := derefNotify(oldCfg.Notify)
	nN := derefNotify(newCfg.Notify)
	if !reflect.DeepEqual(redactNotify(oN), redactNotify(nN)) ||
		(strings.TrimSpace(oN.Token) != "") != (strings.TrimSpace(nN.Token) != "") {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", nN.Enabled),
			logx.Bool("notify.token_set", strings.TrimSpace(nN.Token) != ""),
			logx.Int("notify.workers", nN.Workers),
			logx.Int("notify.rate_per_sec", nN.RatePerSec),
			logx.String("notify.dedup_window", strings.TrimSpace(nN.DedupWindow)),
		)
	}

	// Storage. Nil means disabled.
	oS := derefStorage(oldCfg.Storage)
	nS := derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.retention", strings.TrimSpace(nS.Retention)),
		)
	}

	// Pprof. Nil means disabled.
	oP := derefPprof(oldCfg.Pprof)
	nP := derefPprof(newCfg.Pprof)
	if oP != nP {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", nP.Enabled),
			logx.String("pprof.address", strings.TrimSpace(nP.Address)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, botChanged
}

func derefPprof(p *PprofConfig) PprofConfig {
	if p == nil {
		return PprofConfig{}
	}
	return *p
}

func derefNotify(n *NotifyConfig) NotifyConfig {
	if n == nil {
		return NotifyConfig{}
	}
	return *n
}

// redactNotify blanks the token so DeepEqual compares everything else;
// token presence is diffed separately as a boolean.
func redactNotify(n NotifyConfig) NotifyConfig {
	n.Token = ""
	return n
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func diffBots(oldM, newM map[string]BotConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		o, oOK := oldM[id]
		n, nOK := newM[id]
		if oOK != nOK || o != n {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
