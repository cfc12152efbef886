// Package dsl parses and serializes workflow documents.
//
// A document has a single workflow root key:
//
//	workflow:
//	  name: portal-smoke
//	  selectors:
//	    dashboard: "#dashboard, [data-testid='dashboard']"
//	  suite_setup:
//	    - action: navigate
//	      url: https://portal.example.com
//	  phases:
//	    - name: login
//	      steps:
//	        - action: login
//	          username: demo
//	          password: ${config.password}
//	        - wait_for:
//	            selector: ${selectors.dashboard}
//	          optional: true
//	  error_recovery:
//	    - action: screenshot
//
// Two step shapes are accepted: the explicit shape, a mapping with an action
// key whose sibling keys are the parameters, and the compact shape, a mapping
// whose single non-control key is the action name and whose value is the
// parameter mapping. The control keys optional and timeout are lifted out of
// either shape. Serialization always emits the explicit shape; a parsed
// workflow survives a serialize/parse round trip structurally unchanged.
package dsl
