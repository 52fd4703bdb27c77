package jobs

import (
	"github.com/48ix/stats/pkg/policy"
	"github.com/48ix/stats/pkg/statserr"
)

const (
	ActionUpdatePolicy = "update_policy"
	ActionUpdateACLs   = "update_acls"

	defaultPolicyWait = 1
)

// Action is a named remote call run in the background for a job.
type Action struct {
	Name   string
	Method string
	Args   any
}

// UpdatePolicy asks the policy server to rebuild its routing policy after wait seconds.
func UpdatePolicy(wait int) Action {
	return Action{Name: ActionUpdatePolicy, Method: policy.MethodUpdatePolicy, Args: wait}
}

// UpdateACLs asks the policy server to push switch ACLs.
func UpdateACLs() Action {
	return Action{Name: ActionUpdateACLs, Method: policy.MethodUpdateSwitchACL, Args: struct{}{}}
}

// ActionByName resolves a known action name with default arguments.
func ActionByName(name string) (Action, error) {
	switch name {
	case ActionUpdatePolicy:
		return UpdatePolicy(defaultPolicyWait), nil
	case ActionUpdateACLs:
		return UpdateACLs(), nil
	default:
		return Action{}, statserr.InvalidInput("unknown action %q", name)
	}
}

func (a Action) validate() error {
	if a.Name == "" || a.Method == "" {
		return statserr.InvalidInput("unknown action %q", a.Name)
	}
	return nil
}
