package commands

import (
	"context"
	"fmt"

	"pulpfile/pkg/tasking"
)

// runTask executes fn on the app's runner, holding the same reservations
// the server takes, and waits for it. Cross-process races are caught by
// the version CAS in the database.
func runTask(ctx context.Context, name string, resources []string, fn tasking.Func) error {
	task, err := PF.Tasks.Enqueue(name, resources, fn)
	if err != nil {
		return err
	}
	if err := task.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			_ = PF.Tasks.Cancel(task.ID)
		}
		return err
	}
	if st := task.Status(); st.State != tasking.StateCompleted {
		return fmt.Errorf("%s task %s", name, st.State)
	}
	return nil
}
