// Package fsm models entities with a New, Active and Deleted lifecycle on
// top of the es aggregate runtime.
//
//	m, err := fsm.BuildMachine[Entity](ctx, id, conn, cfg)
//	st, err := m.Create(ctx, Entity{Name: "a"}) // New -> Active
//	st, err = m.Delete(ctx)                     // Active -> Deleted, payload kept
//
// Commands that the current state does not allow fail with an
// es.CommandRejectedError and leave the journal untouched.
package fsm
