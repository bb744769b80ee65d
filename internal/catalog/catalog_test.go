package catalog

import (
	"context"
	"testing"

	"github.com/firmadyne/femu-rehost/internal/rootfsarchive"
)

func unconfigured(t *testing.T) *Client {
	t.Helper()
	c, err := Connect(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestUnconfiguredClientNoOps(t *testing.T) {
	c := unconfigured(t)
	ctx := context.Background()

	if err := c.CheckConnection(ctx); err != nil {
		t.Errorf("CheckConnection on no-op client: %v", err)
	}

	brand, err := c.LookupBrand(ctx, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if brand != UnknownBrand {
		t.Errorf("LookupBrand = %q, want %q", brand, UnknownBrand)
	}

	ok, err := c.UpdateImage(ctx, 1, "arch", "MIPS")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("UpdateImage on no-op client should report false, not error")
	}

	ids, missing, err := c.EnsureObjects(ctx, []FileRef{{Hash: "abc"}}, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 || missing != nil {
		t.Errorf("EnsureObjects on no-op client = %#v, %#v", ids, missing)
	}

	if err := c.InsertObjectsToImage(ctx, 1, ids, []rootfsarchive.FileRecord{{Name: "/bin/x", MD5: "abc"}}); err != nil {
		t.Errorf("InsertObjectsToImage on no-op client: %v", err)
	}
	if err := c.InsertLinksToImage(ctx, 1, []rootfsarchive.LinkRecord{{Name: "/bin/sh", Target: "/bin/busybox"}}); err != nil {
		t.Errorf("InsertLinksToImage on no-op client: %v", err)
	}
}

func TestUpdateImageRejectsUnknownField(t *testing.T) {
	if allowedImageField("drop table image") {
		t.Error("allowedImageField must reject anything outside the fixed whitelist")
	}
	if !allowedImageField("kernel_version") {
		t.Error("kernel_version should be an allowed image field")
	}
}
