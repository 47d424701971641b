package loaders

import (
	"github.com/temoto/robotstxt"
)

// robotsRules is the robots.txt group that applies to our user agent. The zero
// value allows everything.
type robotsRules struct {
	group *robotstxt.Group
}

func (r robotsRules) allowed(p string) bool {
	if r.group == nil {
		return true
	}
	if p == "" {
		p = "/"
	}
	return r.group.Test(p)
}

// parseRobots keeps the group for agent if present, otherwise the "*" group.
// A file that does not parse imposes no rules.
func parseRobots(body []byte, agent string) robotsRules {
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return robotsRules{}
	}
	return robotsRules{group: data.FindGroup(agent)}
}
