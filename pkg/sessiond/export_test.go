package sessiond

var (
	NormaliseAppInfo = AppInfo.normalise
	CoreHosts        = CoreConfig.hosts
)
