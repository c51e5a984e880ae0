// Package config loads GroupMesh settings from YAML or TOML files and turns
// them into component options.
//
// A file has one section per concern:
//
//	chat:
//	  max_round: 12
//	  policy: arbitrated
//	  transitions:
//	    writer: [critic]
//	    critic: [writer]
//	orchestrator:
//	  turn_budget: 20
//	  final_answer: true
//	logging:
//	  level: debug
//	archive:
//	  backend: redis
//	  url: redis://localhost:6379/0
//	agents:
//	  - name: writer
//	    instruction: Draft the text.
//	  - name: critic
//	    termination_marker: TERMINATE
//
// Zero values keep the component defaults.
package config
