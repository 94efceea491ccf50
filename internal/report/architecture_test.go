package report

import (
	"testing"

	"bizdir/testutil"
)

func TestReportDependsOnDomainOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "report renders domain records only")
}
