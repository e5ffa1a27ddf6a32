// Package policy guards generations with Rego rules.
//
// Every policy is a Rego module in the convergo package (or a sub-package such
// as convergo.team) that defines a deny set. Entries are strings or objects:
//
//	package convergo
//
//	import rego.v1
//
//	deny contains msg if {
//		some item in input.managers.apt.items
//		startswith(item, "python2")
//		msg := sprintf("%s is end of life", [item])
//	}
//
//	deny contains {"message": "no flatpaks on servers", "severity": "warning", "manager": "flatpak"} if {
//		input.hostname == "server"
//		count(input.managers.flatpak.items) > 0
//	}
//
// The input document is the resolved generation with deduplicated item lists,
// plus the operation name and hostname:
//
//	{"imports": [...], "managers": {"apt": {"items": [...]}}, "operation": "commit", "hostname": "box"}
//
// Error-level entries block commit; warnings are reported only. User policies
// are read from <config>/policies/*.rego and evaluated after the built-ins.
package policy
