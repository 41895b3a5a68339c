package attendance

var allowedRoles = map[Flow]map[Role]bool{
	FlowEmployee: {RoleCoach: true, RoleAdmin: true, RoleOperator: true},
	FlowMember:   {RoleMember: true},
}

// Allow checks that role may check in through flow.
func Allow(flow Flow, role Role) error {
	if allowedRoles[flow][role] {
		return nil
	}
	switch flow {
	case FlowEmployee:
		return reject(KindWrongFlow, "role %q cannot use employee attendance, use the member scan instead", role)
	case FlowMember:
		return reject(KindWrongFlow, "role %q cannot use member scan, use employee attendance instead", role)
	default:
		return reject(KindWrongFlow, "unknown attendance flow %q", flow)
	}
}
