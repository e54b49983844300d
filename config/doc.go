// Package config loads pipeline definitions from YAML.
//
// A file describes the engine limits, the breaker and retry defaults, the
// evaluator and the ordered stage list:
//
//	engine:
//	  maxConcurrentRuns: 4
//	  runTimeout: 5m
//	breaker:
//	  failureThreshold: 3
//	  cooldown: 30s
//	retry:
//	  maxAttempts: 3
//	  initialDelay: 200ms
//	  factor: 2
//	  maxDelay: 10s
//	evaluation:
//	  evaluator: markdown
//	stages:
//	  - name: plan
//	    type: model
//	    kind: plan
//	    instruction: "Plan research for: {{.Task}}"
//	  - name: research
//	    type: search
//	    kind: sources
//	    requires: [plan]
//	    fallback:
//	      type: unusable
//	      text: no sources
//
// Omitted sections keep the values of Default. Every value is explicit once
// loaded; nothing is read from the environment.
package config
