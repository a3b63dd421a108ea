package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Module is the top level of the privilege taxonomy
type Module string

// SubModule belongs to exactly one Module
type SubModule string

// PrivilegeType is the action being authorized
type PrivilegeType string

const (
	ModuleUsers             Module = "USERS"
	ModuleManagement        Module = "MANAGEMENT"
	ModuleIncomeAndExpenses Module = "INCOME_AND_EXPENSES"
	ModuleSettings          Module = "SETTINGS"
)

const (
	SubModuleAdmins    SubModule = "ADMINS"
	SubModuleOwners    SubModule = "OWNERS"
	SubModuleSubAdmins SubModule = "SUB_ADMINS"
	SubModuleTenants   SubModule = "TENANTS"

	SubModuleBuildings      SubModule = "BUILDINGS"
	SubModuleUnits          SubModule = "UNITS"
	SubModuleLeases         SubModule = "LEASES"
	SubModuleTenantRequests SubModule = "TENANT_REQUESTS"

	SubModuleSuppliers   SubModule = "SUPPLIERS"
	SubModuleExpenses    SubModule = "EXPENSES"
	SubModuleEncasements SubModule = "ENCASEMENTS"
	SubModuleBillings    SubModule = "BILLINGS"
	SubModuleRadiations  SubModule = "RADIATIONS"
	SubModuleGratuities  SubModule = "GRATUITIES"
	SubModuleVacants     SubModule = "VACANTS"
	SubModuleDiscounts   SubModule = "DISCOUNTS"
	SubModuleOpenAP      SubModule = "OPEN_AP"
	SubModuleOpenAR      SubModule = "OPEN_AR"

	SubModuleInclusions     SubModule = "INCLUSIONS"
	SubModuleServices       SubModule = "SERVICES"
	SubModulePaymentMethods SubModule = "PAYMENT_METHODS"
	SubModuleTypeOfExpenses SubModule = "TYPE_OF_EXPENSES"
	SubModuleBankAccounts   SubModule = "BANK_ACCOUNTS"
	SubModuleUnitTypes      SubModule = "UNIT_TYPES"
)

const (
	PrivilegeRead   PrivilegeType = "READ"
	PrivilegeWrite  PrivilegeType = "WRITE"
	PrivilegeUpdate PrivilegeType = "UPDATE"
	PrivilegeDelete PrivilegeType = "DELETE"
)

var moduleSubModules = map[Module][]SubModule{
	ModuleUsers: {
		SubModuleAdmins,
		SubModuleOwners,
		SubModuleSubAdmins,
		SubModuleTenants,
	},
	ModuleManagement: {
		SubModuleBuildings,
		SubModuleUnits,
		SubModuleLeases,
		SubModuleTenantRequests,
	},
	ModuleIncomeAndExpenses: {
		SubModuleSuppliers,
		SubModuleExpenses,
		SubModuleEncasements,
		SubModuleBillings,
		SubModuleRadiations,
		SubModuleGratuities,
		SubModuleVacants,
		SubModuleDiscounts,
		SubModuleOpenAP,
		SubModuleOpenAR,
	},
	ModuleSettings: {
		SubModuleInclusions,
		SubModuleServices,
		SubModulePaymentMethods,
		SubModuleTypeOfExpenses,
		SubModuleBankAccounts,
		SubModuleUnitTypes,
	},
}

var privilegeTypes = []PrivilegeType{
	PrivilegeRead,
	PrivilegeWrite,
	PrivilegeUpdate,
	PrivilegeDelete,
}

// Modules returns every module in a stable order
func Modules() []Module {
	out := make([]Module, 0, len(moduleSubModules))
	for m := range moduleSubModules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SubModules returns the sub modules that belong to module
func (m Module) SubModules() []SubModule {
	subs := moduleSubModules[m]
	out := make([]SubModule, len(subs))
	copy(out, subs)
	return out
}

// IsValid reports whether m is a known module
func (m Module) IsValid() bool {
	_, ok := moduleSubModules[m]
	return ok
}

// Contains reports whether sub belongs to m
func (m Module) Contains(sub SubModule) bool {
	for _, s := range moduleSubModules[m] {
		if s == sub {
			return true
		}
	}
	return false
}

// PrivilegeTypes returns all supported actions
func PrivilegeTypes() []PrivilegeType {
	out := make([]PrivilegeType, len(privilegeTypes))
	copy(out, privilegeTypes)
	return out
}

// IsValid reports whether t is a known action
func (t PrivilegeType) IsValid() bool {
	for _, p := range privilegeTypes {
		if p == t {
			return true
		}
	}
	return false
}

// Requirement is a (module, sub module, action) triple a caller must hold
type Requirement struct {
	Module    Module
	SubModule SubModule
	Type      PrivilegeType
}

// NewRequirement builds a Requirement
func NewRequirement(module Module, sub SubModule, action PrivilegeType) Requirement {
	return Requirement{Module: module, SubModule: sub, Type: action}
}

// Validate checks the triple against the static taxonomy
func (r Requirement) Validate() error {
	if !r.Module.IsValid() || !r.Module.Contains(r.SubModule) || !r.Type.IsValid() {
		return NewInvalidPrivilegeError(r.Module, r.SubModule, r.Type)
	}
	return nil
}

// Authority renders the requirement as MODULE:SUB_MODULE:TYPE
func (r Requirement) Authority() string {
	return fmt.Sprintf("%s:%s:%s", r.Module, r.SubModule, r.Type)
}

func (r Requirement) String() string {
	return r.Authority()
}

// ParseRequirement parses an authority string such as USERS:OWNERS:READ
func ParseRequirement(authority string) (Requirement, error) {
	parts := strings.Split(strings.TrimSpace(authority), ":")
	if len(parts) != 3 {
		return Requirement{}, NewInvalidPrivilegeError(Module(authority), "", "")
	}

	req := Requirement{
		Module:    Module(strings.ToUpper(strings.TrimSpace(parts[0]))),
		SubModule: SubModule(strings.ToUpper(strings.TrimSpace(parts[1]))),
		Type:      PrivilegeType(strings.ToUpper(strings.TrimSpace(parts[2]))),
	}

	if err := req.Validate(); err != nil {
		return Requirement{}, err
	}

	return req, nil
}

// MustParseRequirement is ParseRequirement for static route tables
func MustParseRequirement(authority string) Requirement {
	req, err := ParseRequirement(authority)
	if err != nil {
		panic(err)
	}
	return req
}

// AllRequirements enumerates every valid triple, used to seed the privilege table
func AllRequirements() []Requirement {
	out := make([]Requirement, 0)
	for _, m := range Modules() {
		for _, s := range moduleSubModules[m] {
			for _, t := range privilegeTypes {
				out = append(out, NewRequirement(m, s, t))
			}
		}
	}
	return out
}
