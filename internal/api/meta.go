package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"openadmin/internal/security"
)

type metaClassItem struct {
	ClassName    string `json:"className"`
	FriendlyName string `json:"friendlyName"`
	Section      string `json:"section,omitempty"`
}

// metaClassList lists the classes the current user may fetch.
func (ctl *Controller) metaClassList(c *gin.Context) {
	if ctl.Metadata == nil {
		ctl.fail(c, fmt.Errorf("%w: no metadata source", ErrSectionNotFound))
		return
	}
	out := make([]metaClassItem, 0)
	for _, name := range ctl.Metadata.ClassNames() {
		if err := ctl.check(c, name, security.OpFetch); err != nil {
			var se *security.ServiceError
			if errors.As(err, &se) && se.Kind == security.KindNotAuthorized {
				ctl.fail(c, err)
				return
			}
			continue
		}
		cmd, err := ctl.Metadata.ClassMetadata(name)
		if err != nil {
			ctl.fail(c, err)
			return
		}
		item := metaClassItem{ClassName: name, FriendlyName: cmd.FriendlyName}
		if s, ok := ctl.Sections.ByClassName(name); ok {
			item.Section = s.Key
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, out)
}

// metaClass answers the full metadata of one class.
func (ctl *Controller) metaClass(c *gin.Context) {
	if ctl.Metadata == nil {
		ctl.fail(c, fmt.Errorf("%w: no metadata source", ErrSectionNotFound))
		return
	}
	name := c.Param("class")
	if err := ctl.check(c, name, security.OpFetch); err != nil {
		ctl.fail(c, err)
		return
	}
	cmd, err := ctl.Metadata.ClassMetadata(name)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cmd)
}

func (ctl *Controller) metaEnum(c *gin.Context) {
	name := c.Param("name")
	if ctl.Metadata == nil {
		ctl.fail(c, fmt.Errorf("%w: %s", ErrEnumNotFound, name))
		return
	}
	if _, ok := ctl.Security.CurrentUser(c.Request.Context()); !ok {
		ctl.fail(c, &security.ServiceError{Kind: security.KindNotAuthorized, ClassName: name, Operation: security.OpFetch})
		return
	}
	dir, ok := ctl.Metadata.Enum(name)
	if !ok {
		ctl.fail(c, fmt.Errorf("%w: %s", ErrEnumNotFound, name))
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": dir.Name, "items": dir.Items})
}

// metaLint reports model and section inconsistencies.
func (ctl *Controller) metaLint(c *gin.Context) {
	if ctl.Metadata == nil {
		ctl.fail(c, fmt.Errorf("%w: no metadata source", ErrSectionNotFound))
		return
	}
	if _, ok := ctl.Security.CurrentUser(c.Request.Context()); !ok {
		ctl.fail(c, &security.ServiceError{Kind: security.KindNotAuthorized, Operation: security.OpFetch})
		return
	}
	issues := Lint(ctl.Metadata, ctl.Sections.All())
	if issues == nil {
		issues = []LintIssue{}
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}
