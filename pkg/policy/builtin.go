package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		itemSafetyPolicy(),
		emptyManagerPolicy(),
	}
}

// itemSafetyPolicy rejects items that would break out of a command template.
// Items are substituted into a shell command line without quoting.
func itemSafetyPolicy() Policy {
	return Policy{
		Name:        "item-safety",
		Description: "Rejects items containing shell control characters",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package convergo.builtin.items

import rego.v1

deny contains violation if {
	some name, set in input.managers
	some item in set.items
	regex.match("[;&|` + "`" + `\n]|\\$\\(", item)
	violation := {
		"message": sprintf("%s item %q contains shell control characters", [name, item]),
		"severity": "error",
		"manager": name,
		"item": item,
	}
}
`,
	}
}

// emptyManagerPolicy warns about managers declared without any item.
func emptyManagerPolicy() Policy {
	return Policy{
		Name:        "empty-manager",
		Description: "Warns about managers that declare no items",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package convergo.builtin.empty

import rego.v1

deny contains violation if {
	some name, set in input.managers
	count(set.items) == 0
	violation := {
		"message": sprintf("manager %s declares no items; its previously built items will be removed", [name]),
		"severity": "warning",
		"manager": name,
	}
}
`,
	}
}
