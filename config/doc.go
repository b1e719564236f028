// Package config loads and validates the watchpost configuration document.
//
// A document declares the pipelines to run, each with its source and
// ordered stages, and the controller that evaluates their verdicts:
//
//	{
//	  "supervisor": {"polling_interval": "2s", "shutdown_grace": "5s"},
//	  "pipelines": [
//	    {
//	      "name": "front_door",
//	      "zone": "house",
//	      "source": {"name": "cam0", "type": "testpattern", "params": {"mode": "square"}},
//	      "stages": [
//	        {"name": "motion", "type": "motion"},
//	        {"name": "alert", "type": "alerter", "params": {"domain": "visual"}}
//	      ]
//	    }
//	  ],
//	  "controller": {
//	    "query": "@FRONT_DOOR@",
//	    "zones": {"house": true},
//	    "action": {"name": "log", "type": "log"}
//	  }
//	}
//
// # Loading
//
// Loader merges layers in order, later layers deep-merging over earlier
// ones. Files may be JSON (.json) or YAML (.yaml, .yml). Durations accept Go
// duration strings ("2s") or numbers of seconds.
//
//	loader := config.NewLoader()
//	loader.AddLayer("watchpost.yaml")
//	loader.AddLayer("site-override.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//
// The merged document is checked against an embedded JSON schema before it
// is decoded, then WATCHPOST_* environment overrides are applied and
// Validate runs the semantic checks. Every failure wraps
// errors.ErrConfiguration.
//
// # Environment overrides
//
//	WATCHPOST_LOG_LEVEL         log.level
//	WATCHPOST_LOG_FORMAT        log.format
//	WATCHPOST_METRICS_PORT      metrics.port
//	WATCHPOST_NATS_URLS         nats.urls (comma separated)
//	WATCHPOST_NATS_USERNAME     nats.username
//	WATCHPOST_NATS_PASSWORD     nats.password
//	WATCHPOST_NATS_TOKEN        nats.token
//	WATCHPOST_CONTROLLER_QUERY  controller.query
//
// # Security
//
// Files are read through safeReadFile: size capped at 10MB, nesting capped,
// regular files only, and only the allowed extensions.
package config
