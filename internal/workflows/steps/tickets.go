package steps

import (
	"fmt"
	"strconv"

	"github.com/bibflow/holdingpen-backend/internal/clients/rt"
	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/workflows/engine"
	"github.com/bibflow/holdingpen-backend/internal/workflows/runtime"
)

func recordTitle(rec *domain.Record) string {
	if len(rec.Titles) > 0 {
		return rec.Titles[0].Title
	}
	return ""
}

/*
CreateTicket opens a curation ticket for the record and remembers its id
in the execution context for the later reply/close steps. Outside
production the ticket is only logged. Transport failures surface as
transient and are retried by the step's retry middleware.
*/
func CreateTicket(env *Env, queue string, subjectPrefix string) engine.Step {
	return engine.Step{
		Name: "create_ticket_" + queue,
		Run: func(rec *domain.Record, rc *runtime.Context) runtime.Signal {
			subject := fmt.Sprintf("%s: %s", subjectPrefix, recordTitle(rec))
			if !env.Flags.Production() {
				env.Log.Info("Ticket creation skipped outside production", "queue", queue, "subject", subject)
				return runtime.Continue()
			}
			id, err := env.Tickets.CreateTicket(rc.Ctx, rt.NewTicket{
				Queue:   queue,
				Subject: subject,
				Body:    ticketBody(rec, rc),
				RecID:   rc.RecID(),
			})
			if err != nil {
				return runtime.Fail(err)
			}
			rc.SetExtra(runtime.KeyTicketID, id)
			return runtime.Continue()
		},
	}
}

func ticketBody(rec *domain.Record, rc *runtime.Context) string {
	return fmt.Sprintf(
		"A new document is waiting for curation.\n\nTitle: %s\nControl number: %s\nWorkflow: %s\n",
		recordTitle(rec), rc.RecID(), rc.Run.ID,
	)
}

// ReplyTicket posts a message on the run's ticket. An empty body falls
// back to the reason recorded in the execution context (the curator's
// decision note). A run that never opened a ticket, or that has nothing
// to say, passes through. keepNew leaves the ticket in the tracker's
// "new" state after the reply.
func ReplyTicket(env *Env, body string, keepNew bool) engine.Step {
	return engine.Step{
		Name: "reply_ticket",
		Run: func(_ *domain.Record, rc *runtime.Context) runtime.Signal {
			id := ticketID(rc)
			if id == 0 {
				return runtime.Continue()
			}
			msg := body
			if msg == "" {
				msg = rc.ExtraString(runtime.KeyReason)
			}
			if msg == "" {
				env.Log.Info("No reply body and no reason in context, skipping", "ticket_id", id)
				return runtime.Continue()
			}
			if !env.Flags.Production() {
				env.Log.Info("Ticket reply skipped outside production", "ticket_id", id)
				return runtime.Continue()
			}
			if err := env.Tickets.ReplyTicket(rc.Ctx, id, msg, keepNew); err != nil {
				return runtime.Fail(err)
			}
			return runtime.Continue()
		},
	}
}

// CloseTicket closes the run's ticket at the end of curation and drops
// the id from the execution context.
func CloseTicket(env *Env) engine.Step {
	return engine.Step{
		Name: "close_ticket",
		Run: func(_ *domain.Record, rc *runtime.Context) runtime.Signal {
			id := ticketID(rc)
			if id == 0 {
				return runtime.Continue()
			}
			if !env.Flags.Production() {
				env.Log.Info("Ticket close skipped outside production", "ticket_id", id)
				rc.DeleteExtra(runtime.KeyTicketID)
				return runtime.Continue()
			}
			if err := env.Tickets.CloseTicket(rc.Ctx, id); err != nil {
				return runtime.Fail(err)
			}
			rc.DeleteExtra(runtime.KeyTicketID)
			return runtime.Continue()
		},
	}
}

// ticketID tolerates the number forms JSON round-tripping produces.
func ticketID(rc *runtime.Context) int64 {
	v, ok := rc.Extra()[runtime.KeyTicketID]
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}
