package restart

import "time"

// Target is one hostname:port pair checked during a stage.
type Target struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	Port     int    `json:"port" yaml:"port"`
}

// Stage is an ordered group of health-check targets followed by a wait.
type Stage struct {
	Name    string        `json:"name" yaml:"name"`
	Targets []Target      `json:"targets" yaml:"targets"`
	Wait    time.Duration `json:"wait" yaml:"wait"`
}

// DefaultRunbook is the stage table used when none is configured.
func DefaultRunbook() []Stage {
	return []Stage{
		{
			Name:    "group-0",
			Targets: []Target{{"SiegeAssurnetFront", 80}, {"droolslot2", 80}},
			Wait:    3 * time.Minute,
		},
		{
			Name:    "group-1",
			Targets: []Target{{"siegeawf", 80}, {"siegeasdrools", 8080}},
			Wait:    2 * time.Minute,
		},
		{
			Name:    "group-2",
			Targets: []Target{{"siegeaskeycloak", 8080}},
			Wait:    650 * time.Second,
		},
		{
			Name:    "group-3",
			Targets: []Target{{"SiegeAssurnetDigitale", 7002}, {"siegeasbackend", 7001}, {"assurnetprod", 80}},
		},
	}
}

// Settings drive one job. They are captured when the job is accepted and
// do not change while it runs.
type Settings struct {
	SettleWait       time.Duration
	RetryDelay       time.Duration
	MaxAttempts      int
	AttemptTimeout   time.Duration
	PreflightTimeout time.Duration

	Exclude            []string
	RebootCommand      string
	RemediationHost    string
	RemediationCommand string

	Stages []Stage
}

// DefaultSettings reproduce the production runbook.
func DefaultSettings() Settings {
	return Settings{
		SettleWait:         2 * time.Minute,
		RetryDelay:         2 * time.Minute,
		MaxAttempts:        30,
		AttemptTimeout:     5 * time.Second,
		PreflightTimeout:   5 * time.Second,
		Exclude:            []string{"siegedbc"},
		RebootCommand:      "reboot",
		RemediationHost:    "assurnetprod",
		RemediationCommand: "nohup bash /usr/etc/scripts/stop_wildfly.sh > /dev/null 2>&1 &",
		Stages:             DefaultRunbook(),
	}
}

func (s Settings) excluded(hostname string) bool {
	for _, h := range s.Exclude {
		if h == hostname {
			return true
		}
	}
	return false
}
