package authz

import "github.com/nzwater/compliance-core/pkg/serrors"

// ErrForbidden matches every denial returned by Authorize.
var ErrForbidden = serrors.NewError("AUTHZ_FORBIDDEN", "permission denied", "Authorization.PermissionDenied")

func forbidden(req Request) error {
	return ErrForbidden.WithTemplateData(map[string]string{
		"object": string(req.Object),
		"action": req.action(),
		"role":   req.subject(),
	})
}
