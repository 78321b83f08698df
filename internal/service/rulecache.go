package service

import (
	"reflect"
	"sync"

	"github.com/jask/ledgerflow/internal/rules"
)

// ruleCache keeps compiled rules by id so patterns are compiled once per
// rule, not once per transaction. An entry is rebuilt when its stored
// definition changes and dropped when the rule is no longer loaded.
type ruleCache struct {
	mu   sync.Mutex
	byID map[string]cachedRule
}

type cachedRule struct {
	def  rules.Definition
	rule rules.Rule
}

// compile returns the compiled form of defs, in order, and how many of them
// had to be compiled.
func (c *ruleCache) compile(defs []rules.Definition) ([]rules.Rule, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byID == nil {
		c.byID = make(map[string]cachedRule, len(defs))
	}
	seen := make(map[string]bool, len(defs))
	out := make([]rules.Rule, 0, len(defs))
	fresh := 0
	for _, d := range defs {
		seen[d.ID] = true
		if hit, ok := c.byID[d.ID]; ok && reflect.DeepEqual(hit.def, d) {
			out = append(out, hit.rule)
			continue
		}
		r := rules.Compile(d)
		c.byID[d.ID] = cachedRule{def: d, rule: r}
		out = append(out, r)
		fresh++
	}
	for id := range c.byID {
		if !seen[id] {
			delete(c.byID, id)
		}
	}
	return out, fresh
}
