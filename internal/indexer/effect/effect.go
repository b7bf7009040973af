// Package effect describes the replication-shaped result of a mutation: the
// exact command a replica or a log replay must apply to reproduce it.
package effect

import "strings"

// Command names carried by records.
const (
	CmdCreate          = "FT.CREATE"
	CmdDrop            = "FT.DROP"
	CmdAdd             = "FT.ADD"
	CmdSetPayload      = "FT.SETPAYLOAD"
	CmdDel             = "FT.DEL"
	CmdAliasAdd        = "FT.ALIASADD"
	CmdAliasDel        = "FT.ALIASDEL"
	CmdAliasUpdate     = "FT.ALIASUPDATE"
	CmdSynUpdate       = "FT.SYNUPDATE"
	CmdSynForceUpdate  = "FT.SYNFORCEUPDATE"
	CmdRuleAdd         = "FT.RULEADD"
	FlagDeleteDocument = "dd"
	FlagKeepDocs       = "KEEPDOCS"
	FlagReplace        = "REPLACE"
)

// Record is one replicated mutation. Args follow the command name the way
// the command is written; Prior carries state a replica needs to reproduce
// the change exactly, such as the previous alias target.
type Record struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Prior   string   `json:"prior,omitempty"`
	// Body carries structured arguments (schemas, documents) as JSON.
	Body []byte `json:"body,omitempty"`
}

// New builds a record for command with args.
func New(command string, args ...string) *Record {
	return &Record{Command: command, Args: args}
}

// Index returns the index name the record targets, used as partition key.
func (r *Record) Index() string {
	if len(r.Args) == 0 {
		return ""
	}
	if r.Command == CmdAliasAdd || r.Command == CmdAliasUpdate {
		if len(r.Args) > 1 {
			return r.Args[1]
		}
	}
	return r.Args[0]
}

func (r *Record) String() string {
	var b strings.Builder
	b.WriteString(r.Command)
	for _, a := range r.Args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	return b.String()
}
