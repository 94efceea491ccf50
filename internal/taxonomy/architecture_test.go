package taxonomy

import (
	"testing"

	"bizdir/testutil"
)

func TestNoStorageDependencies(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.AnyOf(testutil.PersistenceImportForbidden, testutil.AssetStoreImportForbidden),
		"taxonomy logic must stay independent of storage backends")
}
