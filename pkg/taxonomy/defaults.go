package taxonomy

// defaultTree mirrors the project's stock entity type definitions.
var defaultTree = []struct {
	super SuperType
	types []Type
}{
	{
		super: SuperType{Code: "OBSERVABLE", Name: "Observable", Icon: "nf-fa-eye"},
		types: []Type{
			{Code: "IPV4", Name: "IPv4 address"},
			{Code: "IPV6", Name: "IPv6 address"},
			{Code: "DOMAIN", Name: "Domain name"},
			{Code: "URL", Name: "URL"},
			{Code: "SHA256", Name: "SHA-256 hash"},
			{Code: "SHA1", Name: "SHA-1 hash"},
			{Code: "MD5", Name: "MD5 hash"},
			{Code: "EMAIL", Name: "Email address"},
			{Code: "CIDR", Name: "CIDR block"},
			{Code: "PHONE", Name: "Phone number"},
		},
	},
	{
		super: SuperType{Code: "ACTOR", Name: "Actor", Icon: "nf-fa-user_secret"},
		types: []Type{
			{Code: "GENERIC", Name: "Generic actor"},
			{Code: "APT", Name: "Advanced persistent threat"},
		},
	},
	{
		super: SuperType{Code: "THREAT", Name: "Threat", Icon: "nf-fa-bug"},
		types: []Type{
			{Code: "GENERIC", Name: "Generic threat"},
			{Code: "MALWARE", Name: "Malware"},
			{Code: "RANSOMWARE", Name: "Ransomware"},
			{Code: "SPYWARE", Name: "Spyware"},
			{Code: "STALKERWARE", Name: "Stalkerware"},
			{Code: "ADWARE", Name: "Adware"},
			{Code: "BACKDOOR", Name: "Backdoor"},
			{Code: "TROJAN", Name: "Trojan"},
			{Code: "VIRUS", Name: "Virus"},
			{Code: "DROPPER", Name: "Dropper"},
		},
	},
	{
		super: SuperType{Code: "DEVICE", Name: "Device", Icon: "nf-fa-laptop"},
		types: []Type{
			{Code: "LAPTOP", Name: "Laptop"},
			{Code: "DESKTOP", Name: "Desktop"},
			{Code: "SERVER", Name: "Server"},
			{Code: "MOBILE", Name: "Mobile device"},
			{Code: "IOT", Name: "IoT device"},
			{Code: "ROUTER", Name: "Router"},
		},
	},
	{
		super: SuperType{Code: "EVENT", Name: "Event", Icon: "nf-fa-calendar"},
		types: []Type{
			{Code: "GENERIC", Name: "Generic event"},
			{Code: "AV_SCAN", Name: "Antivirus scan"},
			{Code: "PASSIVE_DNS", Name: "Passive DNS"},
			{Code: "RESOLUTION", Name: "Name resolution"},
			{Code: "COMMUNICATION", Name: "Communication"},
		},
	},
	{
		super: SuperType{Code: "EXT_DOC", Name: "External document", Icon: "nf-fa-file_text"},
		types: []Type{
			{Code: "REPORT", Name: "Report"},
			{Code: "BLOG_POST", Name: "Blog post"},
		},
	},
}

// NewDefault creates a taxonomy pre-loaded with the stock super-types and
// types every deployment starts from.
func NewDefault() *Taxonomy {
	t := New()
	for _, branch := range defaultTree {
		t.RegisterSuperType(branch.super)
		for _, ty := range branch.types {
			ty.SuperTypeCode = branch.super.Code
			// Registration cannot fail here, the super-type was just added.
			_ = t.RegisterType(ty)
		}
	}
	return t
}
