package reference

// EnumDirectory is one enum catalog.
type EnumDirectory struct {
	Name  string     `yaml:"name"`
	Items []EnumItem `yaml:"items"`
}

type EnumItem struct {
	Code      string `yaml:"code" json:"code"`
	Name      string `yaml:"name" json:"name"`
	Order     int    `yaml:"order,omitempty" json:"order,omitempty"`
	ValidFrom string `yaml:"valid_from,omitempty" json:"validFrom,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty" json:"validTo,omitempty"`
}

// Has reports whether code is a member of the directory.
func (d EnumDirectory) Has(code string) bool {
	for _, it := range d.Items {
		if it.Code == code {
			return true
		}
	}
	return false
}

// Section binds a URL section key to an administered class.
type Section struct {
	Key       string   `yaml:"key"`
	Name      string   `yaml:"name"`
	ClassName string   `yaml:"className"`
	Module    string   `yaml:"module,omitempty"`
	Criteria  []string `yaml:"criteria,omitempty"`
	Order     int      `yaml:"order,omitempty"`
}

// URL is the section path relative to the console root.
func (s Section) URL() string { return "/" + s.Key }
