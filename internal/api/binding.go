package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"openadmin/internal/persistence"
)

// entityFormInput is a posted entity form. HTML forms send fields as
// fields[name].value; JSON clients send a fields object.
type entityFormInput struct {
	EntityType    string            `form:"entityType" json:"entityType"`
	SectionCrumbs string            `form:"sectionCrumbs" json:"sectionCrumbs"`
	Fields        map[string]string `form:"-" json:"fields"`
}

func bindEntityForm(c *gin.Context) (*entityFormInput, error) {
	in := &entityFormInput{}
	if c.ContentType() == binding.MIMEJSON {
		if err := c.ShouldBindJSON(in); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	} else {
		if err := c.ShouldBindWith(in, binding.Form); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		in.Fields = c.PostFormMap("fields")
	}
	in.EntityType = strings.TrimSpace(in.EntityType)
	in.SectionCrumbs = strings.TrimSpace(in.SectionCrumbs)
	trimmed := make(map[string]string, len(in.Fields))
	for k, v := range in.Fields {
		if k = strings.TrimSpace(k); k != "" {
			trimmed[k] = strings.TrimSpace(v)
		}
	}
	in.Fields = trimmed
	return in, nil
}

// submission turns posted fields into a persistence submission.
func (in *entityFormInput) submission(ceiling, id, parentID string) *persistence.Submission {
	return &persistence.Submission{
		EntityType:    in.EntityType,
		CeilingEntity: ceiling,
		ID:            id,
		ParentID:      parentID,
		Values:        in.Fields,
	}
}

// param reads a request parameter from the posted form or the query string.
func param(c *gin.Context, name string) string {
	if v, ok := c.GetPostForm(name); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(c.Query(name))
}

// decodeParam url-decodes v, returning v unchanged when it is not encoded.
func decodeParam(v string) string {
	if d, err := url.QueryUnescape(v); err == nil {
		return d
	}
	return v
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

// isAjax reports whether the request came from the console's scripts.
func isAjax(c *gin.Context) bool {
	return c.GetHeader("X-Requested-With") == "XMLHttpRequest"
}

// wantsJSON reports whether the client prefers JSON over HTML.
func wantsJSON(c *gin.Context) bool {
	return c.NegotiateFormat(binding.MIMEHTML, binding.MIMEJSON) == binding.MIMEJSON
}
