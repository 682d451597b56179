package root

import (
	"github.com/arcims/arcims-platform/apps/cli/cmd/bootstrap"
	tenantcmd "github.com/arcims/arcims-platform/apps/cli/cmd/tenant"
)

func init() {
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(tenantcmd.Command())
}
