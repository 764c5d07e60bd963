// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 archive 把结束的会话保存到关系数据库。

支持 sqlite（glebarez 纯 Go 驱动）、postgres 与 mysql，表结构由 GORM AutoMigrate 维护。
[Store] 同时实现 transcript.Sink：Record 不落库，Flush 在一个事务里写入会话与全部条目。
*/
package archive
