/*
Package boxroot is the process-wide interface to the slabroot allocator.

A host runtime sets the allocator up once, before any domain creates a
root, and tears it down only after every domain has stopped. Between the
two, any domain holding its lock may create, read, modify and delete roots.

# Quick Start

	if err := boxroot.Setup(rt, nil); err != nil {
	    log.Fatal(err)
	}
	defer boxroot.Teardown()

	h, err := boxroot.Create(dom, v)
	if err != nil {
	    return err
	}
	v = boxroot.Get(h)
	boxroot.Delete(dom, h)

# Lifecycle

Status moves NOT_SETUP -> RUNNING -> TORE_DOWN. INVALID is reached from
RUNNING when the host hooks are found overwritten; it is permanent, and only
Teardown leaves it.

Every call made before Setup fails with roots.ErrNotSetup.

# Error Handling

Errors are the sentinels of package roots and are matched with errors.Is:

	h, err := boxroot.Create(dom, v)
	switch {
	case errors.Is(err, roots.ErrOutOfMemory):
	    // retry later
	case errors.Is(err, roots.ErrPermission):
	    // caller bug: no domain lock
	}
*/
package boxroot
