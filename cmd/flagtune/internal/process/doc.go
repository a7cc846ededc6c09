// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package process serializes tuning runs on a workspace.

Two flagtune processes compiling into the same workspace would overwrite
each other's output binary and phase files. WorkspaceLock takes an
advisory flock(2) on <workspace>/flagtune.lock for the lifetime of a
command and records the holder's PID next to it.

	lock := process.NewWorkspaceLock(cfg.Workspace.Dir)
	if err := lock.Acquire(); err != nil {
	    return err
	}
	defer lock.Release()

# Limitations

  - Advisory only: processes that do not take the lock are not stopped
  - NFS and some network filesystems do not support flock
*/
package process
