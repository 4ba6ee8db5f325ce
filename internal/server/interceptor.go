package server

import (
	"dhcpd/internal/config"
	"dhcpd/internal/dhcp4"
)

// Interceptor may add further options to a reply after the configured
// options merge, per spec.md §4.7. Registered interceptors run in order.
type Interceptor interface {
	Apply(request, response *dhcp4.Message)
}

// InterceptorFunc adapts a plain function to Interceptor.
type InterceptorFunc func(request, response *dhcp4.Message)

func (f InterceptorFunc) Apply(request, response *dhcp4.Message) { f(request, response) }

// mergeConfiguredOptions appends each configured option to response, per the
// rule in spec.md §4.7: Force always applies; Default applies only if the
// client's parameter request list (option 55) named the code, and the
// response doesn't already carry it.
func mergeConfiguredOptions(request, response *dhcp4.Message, configured []config.ConfiguredOption) {
	requested := request.Options.ParameterRequestList()
	for _, co := range configured {
		if response.Options.Has(co.Option.Code()) {
			continue
		}
		if co.Mode == config.ModeForce || containsCode(requested, co.Option.Code()) {
			response.Options = append(response.Options, co.Option)
		}
	}
}

func containsCode(codes []dhcp4.OptionCode, code dhcp4.OptionCode) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
